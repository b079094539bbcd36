package database

import (
	"time"
)

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (external_id, username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, external_id, username, email, created_at",
		params.ExternalId,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.ExternalId,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, external_id, username, email",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.ExternalId,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.ExternalId,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgRepository) GetAccountByExternalId(externalId string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, username, email FROM accounts "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.ExternalId,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.ExternalId,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

// AppendMessage inserts a message into the conversation log. The insert is
// keyed on the message id, so retrying an append with a reused id does not
// create a second row.
func (db *PgRepository) AppendMessage(msg Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (id, conversation_id, sender_id, sender_name, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.SenderName,
		msg.Content,
		msg.CreatedAt,
	)

	return err
}

func (db *PgRepository) GetMessages(conversationId string) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT seq, id, conversation_id, sender_id, sender_name, content, created_at FROM messages "+
			"WHERE conversation_id = $1 ORDER BY created_at, seq",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Seq,
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

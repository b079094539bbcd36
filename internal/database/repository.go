package database

type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByExternalId(externalId string) (User, error)
	GetAccountByEmail(email string) (User, error)
	AppendMessage(msg Message) error
	GetMessages(conversationId string) ([]Message, error)
}

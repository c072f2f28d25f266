package models

type Account struct {
	UserID   string
	LoggedIn bool
}

type Message struct {
	AuthorID    string
	RecipientID string
	Text        string
}

package model

// Account is one polled mailbox. Watermark is the last consumed point of
// its change stream (Gmail historyId or highest IMAP UID).
type Account struct {
	Email     string
	Provider  string
	MinAlert  int
	Watermark uint64
}

package redis

const (
	// KeyPrefix roots every syncmarks key.
	KeyPrefix = "syncmarks:"
	// KeyAccounts is the set of all account ids with stored state.
	KeyAccounts = KeyPrefix + "accounts"
)

// NodeKey returns the record key for a node of an account.
func NodeKey(accountID, nativeID string) string {
	return KeyPrefix + "acct:" + accountID + ":node:" + nativeID
}

// NodesKey returns the key of the set of all node ids of an account.
func NodesKey(accountID string) string {
	return KeyPrefix + "acct:" + accountID + ":nodes"
}

// RevisionKey returns the key holding an account's revision clock.
func RevisionKey(accountID string) string {
	return KeyPrefix + "acct:" + accountID + ":revision"
}

// JournalKey returns the key of an account's event journal, a sorted
// set scored by assigned revision.
func JournalKey(accountID string) string {
	return KeyPrefix + "acct:" + accountID + ":journal"
}

// AccountsKey returns the key of the set of all accounts.
func AccountsKey() string {
	return KeyAccounts
}

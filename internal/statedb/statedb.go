package statedb

// StateDB is the account/storage state view transaction execution and
// block building operate against. Implementations must make Fork cheap
// and isolated: mutations on a fork must never be visible through the
// original, and vice versa.
type StateDB interface {
	GetAccount(addr AddressID) (AccountState, bool, error)
	PutAccount(addr AddressID, acc AccountState) error
	DeleteAccount(addr AddressID) error

	GetStorage(addr AddressID, slot Hash256) ([]byte, bool, error)
	SetStorage(addr AddressID, slot Hash256, value []byte) error

	StateRoot() Hash256
	Fork() StateDB
}

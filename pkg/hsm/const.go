package hsm

const (
	// MaxReplica is the number of tape ids the replica attribute can hold.
	MaxReplica = 3

	// DefaultMaxPoolsPerRequest bounds the pools a migration request may name.
	DefaultMaxPoolsPerRequest = 3

	// ReadBufferSize is the chunk size used when streaming file content to or from tape.
	ReadBufferSize = 64 * 1024

	// TapeBlockSize is the block size used to hand out start blocks on a cartridge.
	TapeBlockSize = 512 * 1024

	// FailedTapeID marks job rows for files that could not be opened or inspected.
	FailedTapeID = "FAILED"

	// NoTapeID marks job rows that never need a tape (for example recalling a resident file).
	NoTapeID = "-"
)

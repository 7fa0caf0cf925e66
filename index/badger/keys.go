package badger

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Key layout
//
//	rec:<uid>                       IndexRecord (JSON)
//	id:<storage>:<identifier>       uid (8 bytes, big endian)
//	sto:<storage uid>               StorageRecord (JSON)
//	seq:rec, seq:sto                badger sequences for uid allocation
//
// Numbers in keys are zero padded so prefix scans return them in order.
const (
	prefixRecord     = "rec:"
	prefixIdentifier = "id:"
	prefixStorage    = "sto:"

	sequenceRecords  = "seq:rec"
	sequenceStorages = "seq:sto"
)

func recordKey(uid uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixRecord, uid))
}

func identifierPrefix(storageUID int) []byte {
	return []byte(prefixIdentifier + strconv.Itoa(storageUID) + ":")
}

func identifierKey(storageUID int, identifier string) []byte {
	return append(identifierPrefix(storageUID), identifier...)
}

func storageKey(uid int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixStorage, uid))
}

func encodeUID(uid uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uid)
	return b
}

func decodeUID(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt uid value of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

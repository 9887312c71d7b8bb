package ledger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EntityID is a shard.realm.num ledger identifier.
type EntityID struct {
	Shard uint64
	Realm uint64
	Num   uint64
}

func ParseEntityID(s string) (EntityID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return EntityID{}, fmt.Errorf("invalid entity id %q", s)
	}
	var vals [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return EntityID{}, fmt.Errorf("invalid entity id %q: %w", s, err)
		}
		vals[i] = v
	}
	if vals[0] > 0xffffffff {
		return EntityID{}, fmt.Errorf("invalid entity id %q: shard out of range", s)
	}
	return EntityID{Shard: vals[0], Realm: vals[1], Num: vals[2]}, nil
}

func (id EntityID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Shard, id.Realm, id.Num)
}

// Address is the long-zero EVM address of the entity: 4 bytes of shard,
// 8 of realm, 8 of num.
func (id EntityID) Address() common.Address {
	var b [20]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(id.Shard))
	binary.BigEndian.PutUint64(b[4:12], id.Realm)
	binary.BigEndian.PutUint64(b[12:20], id.Num)
	return common.BytesToAddress(b[:])
}

// AccountAddress parses an account id and returns its EVM address.
func AccountAddress(account string) (common.Address, error) {
	id, err := ParseEntityID(account)
	if err != nil {
		return common.Address{}, err
	}
	return id.Address(), nil
}

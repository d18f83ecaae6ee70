package crc16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotInRange(t *testing.T) {
	keys := []string{"foo", "bar", "FOO", "{user1000}.following", "", "a", "abcdefghijklmnop"}
	for _, k := range keys {
		s := Slot(k)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, numSlots)
	}
}

func TestSlotEmptyKeyIsZero(t *testing.T) {
	assert.Equal(t, 0, Slot(""))
}

func TestHashTagOnlyHashesTagContents(t *testing.T) {
	a := Slot("{user1000}.following")
	b := Slot("{user1000}.followers")
	c := Slot("user1000")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c, "a tagged key must hash exactly like the bare tag contents 'user1000'")
}

func TestEmptyHashTagFallsBackToWholeKey(t *testing.T) {
	withEmptyTag := Slot("{}foobar")
	whole := int(Checksum([]byte("{}foobar"))) % numSlots
	assert.Equal(t, whole, withEmptyTag)
}

func TestKnownVector(t *testing.T) {
	// The well-known Redis Cluster test vector: slot("123456789") == 12739.
	assert.Equal(t, 12739, Slot("123456789"))
}

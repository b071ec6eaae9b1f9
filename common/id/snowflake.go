package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init sets up the process-wide Snowflake node. Only the first call has an
// effect. The server runs as node 1 and relayctl as node 2.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns the next time-ordered id for a call, workflow or execution log.
func New() int64 {
	if node == nil {
		panic("id: New called before Init")
	}
	return node.Generate().Int64()
}

// NewString is New formatted in base 10.
func NewString() string {
	return strconv.FormatInt(New(), 10)
}

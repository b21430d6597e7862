package fileop

import (
	"sync/atomic"

	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
)

// RequestNumbers hands out request numbers. Numbering continues after the highest number
// already in the store.
type RequestNumbers struct {
	last atomic.Int64
}

func NewRequestNumbers(requests stor.RequestStor) (*RequestNumbers, error) {
	highest, err := requests.MaxRequestNumber()
	if err != nil {
		return nil, err
	}

	n := &RequestNumbers{}
	n.last.Store(int64(highest))
	return n, nil
}

func (n *RequestNumbers) Next() int {
	return int(n.last.Add(1))
}

// SPDX-License-Identifier: MIT

package core

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"sync/atomic"
)

var (
	clientIDPrefix = makePrefix()
	seqNum         uint64
)

func makePrefix() string {
	buf := make([]byte, 15)
	rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

// GenRequestID returns a unique string to be used as a session or requestor
// id. This implementation works by using 120 random bits as a process
// identifier combined with 64 bits of sequence number. The values that it
// produces are printable (though things should work regardless).
func GenRequestID() string {
	id := atomic.AddUint64(&seqNum, 1)
	return clientIDPrefix + strconv.FormatUint(id, 36)
}

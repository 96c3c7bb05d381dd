package pipeline

import (
	"fmt"
	"io"
)

// runWriter drains writerQueue, writing each item's payload followed
// by a newline to dst, stopping after n outputs or once the queue
// closes and drains, whichever comes first.
func runWriter(dst io.Writer, n int, in *Queue[*Item]) (int, error) {
	count := 0
	for count < n {
		item, ok := in.Dequeue()
		if !ok {
			break
		}
		if _, err := dst.Write(item.Payload); err != nil {
			return count, fmt.Errorf("pipeline: writer: %w", err)
		}
		if _, err := dst.Write([]byte("\n")); err != nil {
			return count, fmt.Errorf("pipeline: writer: %w", err)
		}
		count++
		trace("writer wrote item seq=%d", item.Seq)
	}
	trace("writer done: %d items", count)
	return count, nil
}

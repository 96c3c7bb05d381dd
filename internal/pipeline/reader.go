package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Trace, when true, prints one line per stage transition to stderr.
var Trace = false

func trace(format string, args ...interface{}) {
	if Trace {
		fmt.Fprintf(os.Stderr, "[pipeline] "+format+"\n", args...)
	}
}

// runReader pulls up to n lines from src, wrapping each as an Item and
// enqueueing it to out, then closes out once the source is exhausted
// or n items have been read. Closing the queue is this pipeline's
// sentinel: every blocked or future Dequeue on out returns ok=false
// once it drains, which is how end-of-stream propagates to every
// producer without a literal token competing for FIFO order.
func runReader(src io.Reader, n int, out *Queue[*Item]) (int, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for count < n && scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		out.Enqueue(&Item{Seq: count, Payload: line})
		count++
		trace("reader read item seq=%d", count-1)
	}
	out.Close()
	trace("reader done: %d items, closing reader queue", count)
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("pipeline: reader: %w", err)
	}
	return count, nil
}

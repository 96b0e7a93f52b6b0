package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, `lead\_id \= 42\. \(ok\)\!`, sanitize("lead_id = 42. (ok)!"))
	assert.Equal(t, "", sanitize(""))
}

func TestSendMessageDropsWhenFull(t *testing.T) {
	b := &AlertBot{queue: make(chan string, 1)}

	b.SendMessage("first")
	b.SendMessage("second")

	assert.Len(t, b.queue, 1)
	assert.Equal(t, "first", <-b.queue)
}

func TestSendMessageTruncates(t *testing.T) {
	b := &AlertBot{queue: make(chan string, 1)}
	b.SendMessage(strings.Repeat("x", maxAlertLength+100))

	msg := <-b.queue
	assert.Len(t, msg, maxAlertLength+3)
}

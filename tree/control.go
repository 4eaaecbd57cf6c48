package tree

import (
	"fmt"
	"strconv"
	"time"

	"github.com/docker/libchan/data"
)

// Control is the payload of a CTL frame: the sub-target set (in folded
// textual form, which round-trips exactly), the command, and the
// forwarded configuration subset.
type Control struct {
	Targets        string
	Command        string
	Fanout         int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	GroomingDelay  time.Duration
	WriteStdin     bool

	// Gateway is the name the receiving gateway routes as; Routes is the
	// forwarded routes table (ParseRoutes form) for further hops. Both
	// empty when the gateway runs its targets directly.
	Gateway string
	Routes  string
}

// Encode packs c as a key/value message.
func (c Control) Encode() []byte {
	msg := data.Empty()
	msg = msg.Set("targets", c.Targets)
	msg = msg.Set("command", c.Command)
	msg = msg.Set("fanout", strconv.Itoa(c.Fanout))
	msg = msg.Set("connect_timeout", c.ConnectTimeout.String())
	msg = msg.Set("command_timeout", c.CommandTimeout.String())
	msg = msg.Set("grooming_delay", c.GroomingDelay.String())
	msg = msg.Set("stdin", strconv.FormatBool(c.WriteStdin))
	msg = msg.Set("gateway", c.Gateway)
	msg = msg.Set("routes", c.Routes)
	return msg.Bytes()
}

// DecodeControl unpacks a CTL payload.
func DecodeControl(payload []byte) (Control, error) {
	msg := data.Message(payload)
	one := func(key string) string {
		vals := msg.Get(key)
		if len(vals) == 0 {
			return ""
		}
		return vals[0]
	}
	var c Control
	c.Targets = one("targets")
	c.Command = one("command")
	if c.Targets == "" || c.Command == "" {
		return c, fmt.Errorf("%w: control frame missing targets or command", ErrFraming)
	}
	c.Fanout, _ = strconv.Atoi(one("fanout"))
	c.ConnectTimeout, _ = time.ParseDuration(one("connect_timeout"))
	c.CommandTimeout, _ = time.ParseDuration(one("command_timeout"))
	c.GroomingDelay, _ = time.ParseDuration(one("grooming_delay"))
	c.WriteStdin, _ = strconv.ParseBool(one("stdin"))
	c.Gateway = one("gateway")
	c.Routes = one("routes")
	return c, nil
}

// EncodeHup packs an exit code as a HUP payload.
func EncodeHup(rc int) []byte {
	return []byte(strconv.Itoa(rc))
}

// DecodeHup unpacks a HUP payload.
func DecodeHup(payload []byte) (int, error) {
	rc, err := strconv.Atoi(string(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: bad hup payload %q", ErrFraming, payload)
	}
	return rc, nil
}

package audio

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// OpenMIDI opens the named output port, or the first port when name is
// empty. A driver must be registered by the caller (blank import).
func OpenMIDI(name string) (SendFunc, func() error, error) {
	var (
		out drivers.Out
		err error
	)
	if name == "" {
		out, err = gomidi.OutPort(0)
	} else {
		out, err = gomidi.FindOutPort(name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("midi out port %q: %w", name, err)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, nil, fmt.Errorf("midi open %q: %w", out.String(), err)
	}
	closer := func() error {
		return out.Close()
	}
	return send, closer, nil
}

package partner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ServiceMode selects the simulated delivery fault applied to requests from a partner.
type ServiceMode int

const (
	Reliable                   ServiceMode = iota // process and reply normally
	DisconnectBeforeProcessing                    // close without invoking the target
	DisconnectBeforeReply                         // invoke, then close instead of replying
	Random                                        // pick one of the above per request
)

var modeNames = [...]string{
	"RELIABLE",
	"DISCONNECT_BEFORE_PROCESSING",
	"DISCONNECT_BEFORE_REPLY",
	"RANDOM",
}

func (m ServiceMode) String() string {
	if m.Valid() {
		return modeNames[m]
	}
	return fmt.Sprintf("ServiceMode(%d)", int(m))
}

func (m ServiceMode) Valid() bool {
	return m >= Reliable && m <= Random
}

// ParseServiceMode accepts a mode either by name (case-insensitive) or by ordinal.
func ParseServiceMode(s string) (ServiceMode, error) {
	s = strings.TrimSpace(s)
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return ServiceMode(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if m := ServiceMode(n); m.Valid() {
			return m, nil
		}
	}
	return Reliable, errors.Errorf("unknown service mode %q (want one of %s, or 0-%d)",
		s, strings.Join(modeNames[:], ", "), len(modeNames)-1)
}

func (m ServiceMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, errors.Errorf("invalid service mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *ServiceMode) UnmarshalText(text []byte) error {
	parsed, err := ParseServiceMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

package stream

// Kind identifies which chunk variant a frame carries.
type Kind uint8

const (
	KindMessageStart Kind = iota + 1
	KindContentBlockStart
	KindPing
	KindContentBlockDelta
	KindContentBlockStop
	KindMessageDelta
	KindMessageStop
)

var kindNames = [...]string{
	KindMessageStart:      "message_start",
	KindContentBlockStart: "content_block_start",
	KindPing:              "ping",
	KindContentBlockDelta: "content_block_delta",
	KindContentBlockStop:  "content_block_stop",
	KindMessageDelta:      "message_delta",
	KindMessageStop:       "message_stop",
}

// Kinds returns every registered kind in wire order.
func Kinds() []Kind {
	return []Kind{
		KindMessageStart,
		KindContentBlockStart,
		KindPing,
		KindContentBlockDelta,
		KindContentBlockStop,
		KindMessageDelta,
		KindMessageStop,
	}
}

// ParseKind resolves an event name. The match is exact and case-sensitive.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return 0, &UnknownKindError{Name: name}
}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) Valid() bool {
	return k >= KindMessageStart && k <= KindMessageStop
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, &UnknownKindError{Name: k.String()}
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

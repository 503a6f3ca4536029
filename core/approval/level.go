package approval

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is one of the three fixed adjudication stages an incident report
// must pass in order. The numeric value encodes the total order.
type Level int

const (
	LevelNone      Level = 0
	LevelQPS       Level = 1
	LevelViceChair Level = 2
	LevelDirector  Level = 3
)

var levelNames = map[Level]string{
	LevelQPS:       "l1_qps",
	LevelViceChair: "l2_vice_chair",
	LevelDirector:  "l3_director",
}

func Levels() []Level {
	return []Level{LevelQPS, LevelViceChair, LevelDirector}
}

func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) Next() (Level, bool) {
	next := l + 1
	return next, next.Valid()
}

func ParseLevel(raw string) (Level, bool) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	for l, name := range levelNames {
		if clean == name {
			return l, true
		}
	}
	switch clean {
	case "1", "l1":
		return LevelQPS, true
	case "2", "l2":
		return LevelViceChair, true
	case "3", "l3":
		return LevelDirector, true
	}
	return LevelNone, false
}

func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		if parsed, ok := ParseLevel(raw); ok {
			*l = parsed
			return nil
		}
		return fmt.Errorf("unknown approval level %q", raw)
	}
	var num int
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	if parsed := Level(num); parsed.Valid() {
		*l = parsed
		return nil
	}
	return fmt.Errorf("unknown approval level %d", num)
}

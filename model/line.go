package model

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Line is a single timestamped log line. Lines are never split.
//
// Lines are stored as two element arrays, [timestamp, data], which is the
// layout ingestion has always written.
type Line struct {
	Time time.Time
	Data string
}

// Size is the payload size of the line in bytes.
func (l Line) Size() int { return len(l.Data) }

func (l Line) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(bson.A{l.Time, l.Data})
}

func (l *Line) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	arr, ok := raw.ArrayOK()
	if !ok {
		return errors.Errorf("log line has type '%s', expected an array", t)
	}

	values, err := arr.Values()
	if err != nil {
		return errors.Wrap(err, "reading log line elements")
	}
	if len(values) != 2 {
		return errors.Errorf("log line has %d elements, expected 2", len(values))
	}

	ts, ok := values[0].TimeOK()
	if !ok {
		return errors.Errorf("log line timestamp has type '%s'", values[0].Type)
	}
	str, ok := values[1].StringValueOK()
	if !ok {
		return errors.Errorf("log line data has type '%s'", values[1].Type)
	}

	l.Time = ts.UTC()
	l.Data = str

	return nil
}

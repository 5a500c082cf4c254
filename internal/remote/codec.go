package remote

import (
	"encoding/json"
	"fmt"

	"github.com/systmms/vaultsync/pkg/vault"
)

// Field value types in the stored document.
const (
	fieldString  = "string"
	fieldInt     = "int"
	fieldBool    = "bool"
	fieldBytes   = "bytes"
	fieldStrings = "strings"
)

type storedField struct {
	Key   string          `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type storedRecord struct {
	Zone   vault.ZoneID     `json:"zone"`
	Kind   vault.RecordKind `json:"kind"`
	Name   string           `json:"name"`
	Fields []storedField    `json:"fields"`
}

// encodeRecord serializes the record address and fields. Metadata is owned by
// the store and not part of the document.
func encodeRecord(rec vault.Record) ([]byte, error) {
	doc := storedRecord{Zone: rec.ID.Zone, Kind: rec.ID.Kind, Name: rec.ID.Name}
	for _, key := range rec.Fields.Keys() {
		value, _ := rec.Fields.Get(key)
		var typ string
		switch value.(type) {
		case string:
			typ = fieldString
		case int64:
			typ = fieldInt
		case bool:
			typ = fieldBool
		case []byte:
			typ = fieldBytes
		case []string:
			typ = fieldStrings
		default:
			return nil, fmt.Errorf("field %q of %s has unsupported type %T", key, rec.ID, value)
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", key, err)
		}
		doc.Fields = append(doc.Fields, storedField{Key: key, Type: typ, Value: raw})
	}
	return json.Marshal(doc)
}

// decodeRecord parses a stored document.
func decodeRecord(data []byte) (vault.Record, error) {
	var doc storedRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return vault.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if _, err := vault.ParseRecordKind(string(doc.Kind)); err != nil {
		return vault.Record{}, err
	}

	fields := vault.NewFields()
	for _, f := range doc.Fields {
		var (
			value any
			err   error
		)
		switch f.Type {
		case fieldString:
			var v string
			err = json.Unmarshal(f.Value, &v)
			value = v
		case fieldInt:
			var v int64
			err = json.Unmarshal(f.Value, &v)
			value = v
		case fieldBool:
			var v bool
			err = json.Unmarshal(f.Value, &v)
			value = v
		case fieldBytes:
			var v []byte
			err = json.Unmarshal(f.Value, &v)
			value = v
		case fieldStrings:
			var v []string
			err = json.Unmarshal(f.Value, &v)
			value = v
		default:
			err = fmt.Errorf("unknown type %q", f.Type)
		}
		if err != nil {
			return vault.Record{}, fmt.Errorf("decode field %q: %w", f.Key, err)
		}
		fields.Set(f.Key, value)
	}

	return vault.Record{
		ID:     vault.RecordID{Zone: doc.Zone, Kind: doc.Kind, Name: doc.Name},
		Fields: fields,
	}, nil
}

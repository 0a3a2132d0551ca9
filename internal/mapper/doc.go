// Package mapper converts durable rows to domain entities and back.
//
// Reads are forgiving: a missing or NULL column falls back to a documented
// default, and a JSON column that fails to parse or to validate against its
// schema is logged and replaced by its default. A malformed cache row never
// fails a read path. Writes always produce the current column encoding:
//
//	{"v":1,"items":[...]}
//
// in canonical JSON, validated on the way back in against schema.cue.
package mapper

package store

import (
	"context"
	"fmt"
)

// ReadSyncState returns the value stored under key. ok is false when the key
// has never been written.
func (s *Store) ReadSyncState(ctx context.Context, key string) (value string, ok bool, err error) {
	st := SelectSyncState(key)
	res := s.Query(ctx, st.SQL, st.Args...)
	if !res.Success {
		return "", false, fmt.Errorf("read sync state %q: %w", key, res.Err)
	}
	if len(res.Data) == 0 {
		return "", false, nil
	}
	switch v := res.Data[0]["value"].(type) {
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	case nil:
		return "", true, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

// WriteSyncState stores value under key, replacing any previous value.
func (s *Store) WriteSyncState(ctx context.Context, key, value string) error {
	st := PutSyncState(key, value)
	if res := s.Execute(ctx, st.SQL, st.Args...); !res.Success {
		return fmt.Errorf("write sync state %q: %w", key, res.Err)
	}
	return nil
}

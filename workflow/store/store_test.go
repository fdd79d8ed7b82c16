package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// testStore exercises the Store contract against any backend.
func testStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		blob := []byte(`{"superstep":0}`)
		if err := st.SaveCheckpoint(ctx, "run-1", 0, blob); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := st.LoadCheckpoint(ctx, "run-1", 0)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if string(got) != string(blob) {
			t.Errorf("loaded %q, want %q", got, blob)
		}
	})

	t.Run("overwrite wins", func(t *testing.T) {
		if err := st.SaveCheckpoint(ctx, "run-1", 0, []byte("v2")); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := st.LoadCheckpoint(ctx, "run-1", 0)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("loaded %q after overwrite", got)
		}
	})

	t.Run("missing checkpoint", func(t *testing.T) {
		if _, err := st.LoadCheckpoint(ctx, "run-1", 99); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
		if _, err := st.LoadCheckpoint(ctx, "no-such-run", 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("latest", func(t *testing.T) {
		for step := 0; step < 3; step++ {
			blob := []byte(fmt.Sprintf("step-%d", step))
			if err := st.SaveCheckpoint(ctx, "run-2", step, blob); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		blob, step, err := st.LoadLatest(ctx, "run-2")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if step != 2 || string(blob) != "step-2" {
			t.Errorf("latest = (%q, %d)", blob, step)
		}
		if _, _, err := st.LoadLatest(ctx, "no-such-run"); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("list ascending", func(t *testing.T) {
		// Saved out of order on purpose.
		for _, step := range []int{5, 1, 3} {
			if err := st.SaveCheckpoint(ctx, "run-3", step, []byte("x")); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		steps, err := st.ListCheckpoints(ctx, "run-3")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(steps) != 3 || steps[0] != 1 || steps[1] != 3 || steps[2] != 5 {
			t.Errorf("steps %v", steps)
		}

		empty, err := st.ListCheckpoints(ctx, "no-such-run")
		if err != nil {
			t.Fatalf("list unknown run: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("unknown run listed %v", empty)
		}
	})

	t.Run("delete run", func(t *testing.T) {
		if err := st.SaveCheckpoint(ctx, "run-4", 0, []byte("x")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := st.DeleteRun(ctx, "run-4"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := st.LoadCheckpoint(ctx, "run-4", 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v after delete, want ErrNotFound", err)
		}
		// Other runs are untouched.
		if _, err := st.LoadCheckpoint(ctx, "run-1", 0); err != nil {
			t.Errorf("delete crossed runs: %v", err)
		}
	})
}

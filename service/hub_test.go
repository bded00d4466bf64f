package service

import (
	"errors"
	"strings"
	"testing"
)

// recorder logs lifecycle calls into a shared journal
type recorder struct {
	name     string
	deps     []string
	journal  *[]string
	initErr  error
	startErr error
	initArgs []any
}

func (r *recorder) Name() string           { return r.name }
func (r *recorder) Dependencies() []string { return r.deps }

func (r *recorder) Init(args ...any) error {
	r.initArgs = args
	*r.journal = append(*r.journal, "init:"+r.name)
	return r.initErr
}

func (r *recorder) Start() error {
	*r.journal = append(*r.journal, "start:"+r.name)
	return r.startErr
}

func (r *recorder) Stop() error {
	*r.journal = append(*r.journal, "stop:"+r.name)
	return nil
}

func TestHub_DependencyOrder(t *testing.T) {
	var journal []string
	h := NewHub()
	h.Register(&recorder{name: "stream", deps: []string{"network"}, journal: &journal})
	h.Register(&recorder{name: "network", journal: &journal})
	h.Register(&recorder{name: "audio", journal: &journal})

	if err := h.InitAll("cfg"); err != nil {
		t.Fatal(err)
	}
	if err := h.StartAll(); err != nil {
		t.Fatal(err)
	}
	h.StopAll()

	want := "init:audio,init:network,init:stream," +
		"start:audio,start:network,start:stream," +
		"stop:stream,stop:network,stop:audio"
	if got := strings.Join(journal, ","); got != want {
		t.Errorf("journal\n got %s\nwant %s", got, want)
	}

	svc := MustGet[*recorder](h, "stream")
	if len(svc.initArgs) != 1 || svc.initArgs[0] != "cfg" {
		t.Errorf("init args = %v", svc.initArgs)
	}
}

func TestHub_StartRollback(t *testing.T) {
	var journal []string
	h := NewHub()
	h.Register(&recorder{name: "a", journal: &journal})
	h.Register(&recorder{name: "b", deps: []string{"a"}, journal: &journal, startErr: errors.New("bind failed")})

	if err := h.InitAll(); err != nil {
		t.Fatal(err)
	}
	err := h.StartAll()
	if err == nil || !strings.Contains(err.Error(), "bind failed") {
		t.Fatalf("StartAll err = %v", err)
	}

	want := "init:a,init:b,start:a,start:b,stop:a"
	if got := strings.Join(journal, ","); got != want {
		t.Errorf("journal = %s, want %s", got, want)
	}
}

func TestHub_InitRollback(t *testing.T) {
	var journal []string
	h := NewHub()
	h.Register(&recorder{name: "a", journal: &journal})
	h.Register(&recorder{name: "b", deps: []string{"a"}, journal: &journal, initErr: errors.New("bad config")})

	if err := h.InitAll(); err == nil {
		t.Fatal("InitAll should fail")
	}
	want := "init:a,init:b,stop:a"
	if got := strings.Join(journal, ","); got != want {
		t.Errorf("journal = %s, want %s", got, want)
	}
}

func TestHub_Errors(t *testing.T) {
	var journal []string

	t.Run("duplicate", func(t *testing.T) {
		h := NewHub()
		h.Register(&recorder{name: "a", journal: &journal})
		if err := h.Register(&recorder{name: "a", journal: &journal}); err == nil {
			t.Error("duplicate registration accepted")
		}
	})

	t.Run("missing dependency", func(t *testing.T) {
		h := NewHub()
		h.Register(&recorder{name: "a", deps: []string{"ghost"}, journal: &journal})
		if err := h.InitAll(); err == nil {
			t.Error("missing dependency accepted")
		}
	})

	t.Run("cycle", func(t *testing.T) {
		h := NewHub()
		h.Register(&recorder{name: "a", deps: []string{"b"}, journal: &journal})
		h.Register(&recorder{name: "b", deps: []string{"a"}, journal: &journal})
		if err := h.InitAll(); err == nil {
			t.Error("cycle accepted")
		}
	})

	t.Run("start before init", func(t *testing.T) {
		h := NewHub()
		h.Register(&recorder{name: "a", journal: &journal})
		if err := h.StartAll(); err == nil {
			t.Error("StartAll before InitAll accepted")
		}
	})
}

func TestMustGet_Panics(t *testing.T) {
	h := NewHub()
	defer func() {
		if recover() == nil {
			t.Error("MustGet on missing service did not panic")
		}
	}()
	MustGet[*recorder](h, "missing")
}

func TestHub_Names(t *testing.T) {
	var journal []string
	h := NewHub()
	h.Register(&recorder{name: "zeta", journal: &journal})
	h.Register(&recorder{name: "alpha", journal: &journal})
	if got := strings.Join(h.Names(), ","); got != "alpha,zeta" {
		t.Errorf("Names = %s", got)
	}
}

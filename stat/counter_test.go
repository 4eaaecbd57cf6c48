package stat

import (
	"testing"
)

func TestCounter(t *testing.T) {
	var c = NewCounter(1)
	c.Incr()
	if c.Int() != 2 {
		t.Fatalf("counter: except: 2, got: %d\n", c.Int())
	}
	c.Decr()
	c.Decr()
	c.Decr()
	if c.Int() != 0 {
		t.Fatalf("counter: except: 0, got: %d\n", c.Int())
	}
	c.Decr()
	if c.Int() != 0 {
		t.Fatalf("counter: except: 0, got: %d\n", c.Int())
	}
	if c.String() != "0" {
		t.Fatalf("counter: except: 0, got: %s\n", c)
	}
}

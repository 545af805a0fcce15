package ristretto_test

import (
	"testing"

	"github.com/Strob0t/swarmcore/internal/adapter/ristretto"
	"github.com/Strob0t/swarmcore/internal/port/cache/cachetest"
)

func TestCache_Compliance(t *testing.T) {
	c, err := ristretto.New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	cachetest.Run(t, c, c.Wait)
}

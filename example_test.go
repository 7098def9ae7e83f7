package ratelimit

import (
	"context"
	"fmt"
)

func ExampleNewMemoryEngine() {
	engine := NewMemoryEngine()
	id := Identity{ID: "user_123"}

	res, err := engine.Check(context.Background(), id, "10/minute")
	if err != nil {
		panic(err)
	}

	fmt.Println(res.Allowed)
	// Output:
	// true
}

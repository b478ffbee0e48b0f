//go:build js && wasm

// Command ot-wasm-bridge exports the bare operation algebra (pkg/ot) to
// JS as a standalone OpSeq global, independent of the full session glue
// cmd/kolabpad-wasm exports. Useful for exercising the algebra directly
// from a host page or test harness without wiring a transport or editor.
package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"syscall/js"

	"github.com/shiv248/kolabpad-client/pkg/ot"
)

var (
	opSeqRegistry = make(map[int]*ot.OperationSeq)
	opSeqCounter  = 0
	opSeqMutex    sync.Mutex
)

// wrapOpSeq creates a JavaScript-compatible wrapper around a Go OperationSeq.
func wrapOpSeq(op *ot.OperationSeq) js.Value {
	opSeqMutex.Lock()
	opSeqCounter++
	id := opSeqCounter
	opSeqRegistry[id] = op
	opSeqMutex.Unlock()

	obj := make(map[string]interface{})
	obj["__opseq_id"] = id

	obj["delete"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) > 0 {
			op.Delete(uint64(args[0].Int()))
		}
		return nil
	})

	obj["insert"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) > 0 {
			op.Insert(args[0].String())
		}
		return nil
	})

	obj["retain"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) > 0 {
			op.Retain(uint64(args[0].Int()))
		}
		return nil
	})

	obj["compose"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			fmt.Println("compose error: no arguments provided")
			return nil
		}
		otherOp := unwrapOpSeq(args[0])
		if otherOp == nil {
			fmt.Println("compose error: failed to unwrap other operation")
			return nil
		}
		result, err := op.Compose(otherOp)
		if err != nil {
			fmt.Printf("compose error: %v\n", err)
			fmt.Printf("  op: base=%d, target=%d\n", op.BaseLen(), op.TargetLen())
			fmt.Printf("  other: base=%d, target=%d\n", otherOp.BaseLen(), otherOp.TargetLen())
			return nil
		}
		return wrapOpSeq(result)
	})

	// transform(other) returns an object with .first()/.second() methods.
	obj["transform"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			fmt.Println("transform error: no arguments provided")
			return nil
		}
		otherOp := unwrapOpSeq(args[0])
		if otherOp == nil {
			fmt.Println("transform error: failed to unwrap other operation")
			return nil
		}
		aPrime, bPrime, err := op.Transform(otherOp)
		if err != nil {
			fmt.Printf("transform error: %v\n", err)
			fmt.Printf("  op A: base=%d, target=%d\n", op.BaseLen(), op.TargetLen())
			fmt.Printf("  op B: base=%d, target=%d\n", otherOp.BaseLen(), otherOp.TargetLen())
			return nil
		}

		pair := make(map[string]interface{})
		pair["first"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			return wrapOpSeq(aPrime)
		})
		pair["second"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			return wrapOpSeq(bPrime)
		})
		return js.ValueOf(pair)
	})

	obj["apply"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		result, err := op.Apply(args[0].String())
		if err != nil {
			return nil
		}
		return result
	})

	obj["invert"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		inverted := op.Invert(args[0].String())
		return wrapOpSeq(inverted)
	})

	obj["is_noop"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return op.IsNoop()
	})

	obj["base_len"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return op.BaseLen()
	})

	obj["target_len"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return op.TargetLen()
	})

	obj["transform_index"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return 0
		}
		position := uint32(args[0].Int())
		return op.TransformIndex(position)
	})

	obj["to_string"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		data, err := json.Marshal(op)
		if err != nil {
			return "{}"
		}
		return string(data)
	})

	return js.ValueOf(obj)
}

// unwrapOpSeq extracts an OperationSeq from its JavaScript wrapper.
func unwrapOpSeq(jsVal js.Value) *ot.OperationSeq {
	if jsVal.Type() == js.TypeObject {
		idVal := jsVal.Get("__opseq_id")
		if idVal.Type() == js.TypeNumber {
			id := idVal.Int()
			opSeqMutex.Lock()
			op := opSeqRegistry[id]
			opSeqMutex.Unlock()
			if op != nil {
				return op
			}
		}
	}

	fmt.Println("unwrapOpSeq failed: could not find __opseq_id or operation not in registry")
	return nil
}

func main() {
	opseqConstructor := make(map[string]interface{})

	opseqConstructor["new"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return wrapOpSeq(ot.NewOperationSeq())
	})

	opseqConstructor["from_str"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		op, err := ot.FromJSON(args[0].String())
		if err != nil {
			return nil
		}
		return wrapOpSeq(op)
	})

	opseqConstructor["with_capacity"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		capacity := 0
		if len(args) > 0 {
			capacity = args[0].Int()
		}
		return wrapOpSeq(ot.WithCapacity(capacity))
	})

	js.Global().Set("OpSeq", js.ValueOf(opseqConstructor))

	<-make(chan bool)
}

package engine

import (
	"encoding/json"
	"fmt"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/messenger"
)

// pipeHandlerID is the reserved route a remote InvokePipe call rides over,
// numbered the same way messenger's own reserved routes are (handlers.go
// reservedBase+1..14): a fixed constant every node agrees on rather than
// something minted per-instance, since a pipe invocation crosses processes.
var pipeHandlerID = vtrt.MakeAutoHandlerID(0xFFFF0000 + 15)

// pipeFrame carries a remote pipe invocation: the target CallbackID plus its
// opaque JSON payload (a pipe only ever crosses the wire already JSON- or
// Codec-encoded by encodePipePayload).
type pipeFrame struct {
	Pipe    vtrt.CallbackID
	Payload json.RawMessage
}

// installPipeRoute wires the reserved pipe-invoke system route on msg,
// dispatching into pipes.Invoke on arrival. A pipe may be invoked from any
// node that holds its CallbackID.
func installPipeRoute(rt *Runtime) {
	messenger.RegisterSystemRoute(rt.msg, pipeHandlerID, func(ctx *vtrt.HandlerContext, f pipeFrame) {
		if err := rt.pipes.Invoke(f.Pipe, []byte(f.Payload)); err != nil {
			logPipeErr(err)
		}
	})
}

func logPipeErr(err error) {
	fmt.Printf("engine: pipe route: %v\n", err)
}

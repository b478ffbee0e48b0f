//go:build js && wasm

// Command kolabpad-wasm is the browser deliverable: it exports the whole
// client, wired together by session.Manager, to the host page as a
// single JS global, following the js.Global().Set / js.FuncOf wrap idiom
// cmd/ot-wasm-bridge/main.go uses for the operation algebra alone.
package main

import (
	"syscall/js"

	"github.com/shiv248/kolabpad-client/internal/jsbridge"
	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/internal/transport"
	"github.com/shiv248/kolabpad-client/internal/transport/jsws"
	"github.com/shiv248/kolabpad-client/pkg/presence"
	"github.com/shiv248/kolabpad-client/pkg/session"
)

func wrapManager(mgr *session.Manager) js.Value {
	obj := make(map[string]interface{})

	obj["setInfo"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 2 {
			return nil
		}
		mgr.SetInfo(protocol.UserInfo{Name: args[0].String(), Hue: uint32(args[1].Int())})
		return nil
	})

	obj["setMeta"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		var language, visibility *string
		if len(args) > 0 && args[0].Type() == js.TypeString {
			v := args[0].String()
			language = &v
		}
		if len(args) > 1 && args[1].Type() == js.TypeString {
			v := args[1].String()
			visibility = &v
		}
		return mgr.SetMeta(language, visibility)
	})

	obj["beforeUnload"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return mgr.BeforeUnload()
	})

	obj["dispose"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		mgr.Dispose()
		return nil
	})

	return js.ValueOf(obj)
}

func buildCallbacks(jsCallbacks js.Value) session.Callbacks {
	invoke := func(name string, args ...interface{}) {
		fn := jsCallbacks.Get(name)
		if fn.Type() == js.TypeFunction {
			fn.Invoke(args...)
		}
	}

	return session.Callbacks{
		OnConnected: func(info *protocol.UserInfo) {
			if info == nil {
				invoke("onConnected", nil, nil)
				return
			}
			invoke("onConnected", info.Name, info.Hue)
		},
		OnDisconnected: func() { invoke("onDisconnected") },
		OnDesynchronized: func() { invoke("onDesynchronized") },
		OnError: func(err error) { invoke("onError", err.Error()) },
		OnChangeMeta: func(language, visibility string) {
			invoke("onChangeMeta", language, visibility)
		},
		OnChangeUsers: func(peers map[uint64]presence.Peer) {
			jsPeers := make(map[string]interface{}, len(peers))
			for id, p := range peers {
				cursors := make([]interface{}, len(p.Cursor.Cursors))
				for i, c := range p.Cursor.Cursors {
					cursors[i] = c
				}
				jsPeers[itoa(id)] = map[string]interface{}{
					"name":    p.Info.Name,
					"hue":     p.Info.Hue,
					"cursors": cursors,
				}
			}
			invoke("onChangeUsers", js.ValueOf(jsPeers))
		},
		OnChangeMe: func(info protocol.UserInfo) {
			invoke("onChangeMe", info.Name, info.Hue)
		},
		OnOTPChanged: func(otp *string, by protocol.UserInfo) {
			if otp == nil {
				invoke("onOTPChanged", nil, by.Name)
				return
			}
			invoke("onOTPChanged", *otp, by.Name)
		},
		InjectHueStyle: func(hue uint32) { invoke("injectHueStyle", hue) },
	}
}

func itoa(id uint64) string {
	if id == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for id > 0 {
		i--
		digits[i] = byte('0' + id%10)
		id /= 10
	}
	return string(digits[i:])
}

func main() {
	constructor := make(map[string]interface{})

	constructor["connect"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 3 {
			return nil
		}
		url := args[0].String()
		reconnectMs := args[1].Int()
		hostEditor := args[2]
		var jsCallbacks js.Value
		if len(args) > 3 {
			jsCallbacks = args[3]
		}

		ed := jsbridge.New(hostEditor)
		cb := session.Callbacks{}
		if jsCallbacks.Type() == js.TypeObject {
			cb = buildCallbacks(jsCallbacks)
		}

		mgr := session.NewManager(url, reconnectMs, func() transport.Socket { return jsws.New() }, ed, cb)
		return wrapManager(mgr)
	})

	js.Global().Set("Kolabpad", js.ValueOf(constructor))

	<-make(chan struct{})
}

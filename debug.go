//go:build debug

package nodegate

import (
	"net/http"
	_ "net/http/pprof"
)

func init() {
	go http.ListenAndServe("localhost:8964", nil)
}

package httpapi

import (
	"mime"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
)

const protobufContentType = "application/x-protobuf"

// wantsProtobuf reports whether the client asked for a protobuf body,
// either through Accept or an explicit ?format=proto.
func wantsProtobuf(r *http.Request) bool {
	if r.URL.Query().Get("format") == "proto" {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case protobufContentType, "application/protobuf":
			return true
		}
	}
	return false
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

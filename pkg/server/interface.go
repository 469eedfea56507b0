/*
Package server implements msgpack IPC for inline code completion.

The server reads a stream of msgpack maps from stdin and writes one msgpack
map per reply to stdout. Logs never go to stdout.

# IPC

Every message carries an "id" echoed in its reply and an "op". A message
without "op" is a completion request:

	{"id": "c1", "doc": "main.go", "text": "func main() {\n\tfmt.", "offset": 19, "lang": "go"}

The reply holds at most one suggestion. "start" and "end" are byte offsets
into the request text; the client replaces that range with "text":

	{"id": "c1", "s": [{"text": "Println()", "start": 19, "end": 19, "rid": 7, "type": "single-line-redo-suffix"}], "c": 1, "hit": false, "t": 412031}

Completion requests run concurrently. A newer request for the same document
supersedes a debouncing older one, which is answered with an empty list.

Once the user takes a suggestion the client reports it with the document
after the edit:

	{"id": "a1", "op": "accept", "doc": "main.go", "rid": 7, "text": "...", "offset": 27}

Remaining ops:

	{"id": "x", "op": "close", "doc": "main.go"}   drop the document's predictions
	{"id": "x", "op": "reset"}                     drop every prediction
	{"id": "x", "op": "stats"}                     engine counters
	{"id": "x", "op": "health"}

On start the server announces {"status": "ready"}.

# Message Types

Request is the single inbound shape; fields an op does not use are omitted.
CompletionResponse answers completions, StatusResponse answers accept, close,
reset and health, StatsResponse answers stats. ErrorResponse reports a bad
request (code 400) or an internal failure (code 500).
*/
package server

// Op names.
const (
	OpComplete = "complete"
	OpAccept   = "accept"
	OpClose    = "close"
	OpReset    = "reset"
	OpStats    = "stats"
	OpHealth   = "health"
)

// Request - inbound message of any op
type Request struct {
	ID       string `msgpack:"id"`
	Op       string `msgpack:"op,omitempty"`
	Doc      string `msgpack:"doc,omitempty"`
	Text     string `msgpack:"text,omitempty"`
	Offset   int    `msgpack:"offset,omitempty"`
	Lang     string `msgpack:"lang,omitempty"`
	RecordID uint64 `msgpack:"rid,omitempty"`
}

// CompletionSuggestion - one replacement of the document range [Start, End)
type CompletionSuggestion struct {
	Text     string `msgpack:"text"`
	Start    int    `msgpack:"start"`
	End      int    `msgpack:"end"`
	RecordID uint64 `msgpack:"rid"`
	Type     string `msgpack:"type"`
}

// CompletionResponse - completion response, TimeTaken in microseconds
type CompletionResponse struct {
	ID          string                 `msgpack:"id"`
	Suggestions []CompletionSuggestion `msgpack:"s"`
	Count       int                    `msgpack:"c"`
	CacheHit    bool                   `msgpack:"hit"`
	TimeTaken   int64                  `msgpack:"t"`
}

// StatusResponse - reply to ops without a payload
type StatusResponse struct {
	ID     string `msgpack:"id,omitempty"`
	Status string `msgpack:"status"`
}

// StatsResponse - engine counters
type StatsResponse struct {
	ID    string         `msgpack:"id"`
	Stats map[string]int `msgpack:"stats"`
}

// ErrorResponse holds basic error information
type ErrorResponse struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}

// daemon package exposes the controller over a small HTTP surface so a
// headless deployment can be driven without the configuration panel.
package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nsmryan/ccsds-router/cfg"
	"github.com/nsmryan/ccsds-router/printer"
	"github.com/nsmryan/ccsds-router/route"
)

type Args struct {
	// Port to listen on.
	PortNumber uint16

	// The processor under control.
	Processor *route.Processor

	// Stats summarizes the event stream for the status endpoint.
	Stats *route.Stats
}

// Produces an HTTPResponse from an *http.Request.
type httpRequestHandler func(*http.Request) HTTPResponse

// A wrapper for converting httpRequestHandlers into http.Handlers.
func httpHandler(requestHandler httpRequestHandler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		response := requestHandler(request)
		response.Write(writer)
	})
}

// Run serves the control surface until the listener fails. Each request
// is tagged with an ID for log correlation.
func Run(args Args) error {
	router := mux.NewRouter().StrictSlash(true)

	control := controlServer{
		processor: args.Processor,
		stats:     args.Stats,
	}

	router.Handle("/v1/control/start", httpHandler(control.start)).Methods("POST")
	router.Handle("/v1/control/pause", httpHandler(control.command(route.CmdPause))).Methods("POST")
	router.Handle("/v1/control/continue", httpHandler(control.command(route.CmdContinue))).Methods("POST")
	router.Handle("/v1/control/cancel", httpHandler(control.command(route.CmdCancel))).Methods("POST")
	router.Handle("/v1/control/terminate", httpHandler(control.command(route.CmdTerminate))).Methods("POST")
	router.Handle("/v1/status", httpHandler(control.status)).Methods("GET")

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			printer.Debugf("request %s: %s %s\n", uuid.New(), request.Method, request.URL.Path)
			next.ServeHTTP(writer, request)
		})
	})

	listenAddress := fmt.Sprintf(":%d", args.PortNumber)
	printer.Infof("control surface listening on %s\n", listenAddress)
	return http.ListenAndServe(listenAddress, router)
}

type controlServer struct {
	processor *route.Processor
	stats     *route.Stats
}

// start decodes an AppConfig body and issues a Start command.
func (s controlServer) start(request *http.Request) HTTPResponse {
	if response := EnsureJSONEncodedRequestBody(request); response != nil {
		return *response
	}

	var config cfg.AppConfig
	decoder := json.NewDecoder(request.Body)
	if err := decoder.Decode(&config); err != nil {
		return NewHTTPError(err, http.StatusBadRequest, "Malformed configuration")
	}
	if err := config.Validate(); err != nil {
		return NewHTTPError(err, http.StatusUnprocessableEntity, "Invalid configuration")
	}

	s.processor.Commands() <- route.Command{Kind: route.CmdStart, Config: &config}
	return NewHTTPResponse(http.StatusAccepted, commandAck{Command: "Start"})
}

// command produces a handler that forwards a bare state-change command.
func (s controlServer) command(kind route.CommandKind) httpRequestHandler {
	return func(request *http.Request) HTTPResponse {
		cmd := route.Command{Kind: kind}
		s.processor.Commands() <- cmd
		return NewHTTPResponse(http.StatusAccepted, commandAck{Command: cmd.Name()})
	}
}

// status reports the controller state and the packet summary.
func (s controlServer) status(request *http.Request) HTTPResponse {
	body := struct {
		State string              `json:"state"`
		Stats route.StatsSnapshot `json:"stats"`
	}{
		State: s.processor.State().String(),
		Stats: s.stats.Snapshot(),
	}
	return NewHTTPResponse(http.StatusOK, body)
}

type commandAck struct {
	Command string `json:"command"`
}

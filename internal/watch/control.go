package watch

import (
	"errors"
	"os"

	"github.com/msageha/taskflow/internal/uds"
)

func (l *Loop) registerHandlers(srv *uds.Server) {
	srv.Handle(uds.CmdPing, func(*uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": os.Getpid()})
	})

	srv.Handle(uds.CmdStatus, func(*uds.Request) *uds.Response {
		return uds.SuccessResponse(l.Status())
	})

	srv.Handle(uds.CmdTrigger, func(req *uds.Request) *uds.Response {
		var p uds.TriggerParams
		if err := req.DecodeParams(&p); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
		if p.Binding == "" {
			return uds.ErrorResponse(uds.ErrCodeValidation, "binding is required")
		}
		if err := l.Trigger(p.Binding); err != nil {
			if errors.Is(err, ErrUnknownBinding) {
				return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
			}
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		return uds.SuccessResponse(map[string]string{"status": "queued", "binding": p.Binding})
	})

	srv.Handle(uds.CmdShutdown, func(*uds.Request) *uds.Response {
		l.logger.Info().Msg("shutdown requested via control socket")
		l.Stop()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

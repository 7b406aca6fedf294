package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/vsrad/debugserver/protocol"
	"go.uber.org/zap"
)

// connLog reports the lifecycle events of a single client connection.
type connLog struct {
	log *zap.SugaredLogger
}

func newConnLog(base *zap.SugaredLogger, id uint64, session uuid.UUID, transport string) *connLog {
	return &connLog{
		log: base.Named("client").With("Client", id, "Session", session.String(), "Transport", transport),
	}
}

func (l *connLog) ConnectionEstablished(remote string) {
	l.log.Infow("connection established", "Remote", remote)
}

func (l *connLog) CommandReceived(cmd protocol.Command, n int) {
	l.log.Infow("command received", "Command", cmd.String(), "Bytes", n)
}

func (l *connLog) ResponseSent(resp protocol.Response, n int) {
	l.log.Infow("response sent", "Response", resp.String(), "Bytes", n)
}

func (l *connLog) CommandProcessed(d time.Duration) {
	l.log.Debugw("command processed", "Duration", d)
}

func (l *connLog) Stdout(line string) {
	l.log.Debugw("stdout", "Line", line)
}

func (l *connLog) Stderr(line string) {
	l.log.Debugw("stderr", "Line", line)
}

func (l *connLog) MissingVersionExchange() {
	l.log.Warn("client did not exchange versions first, closing connection")
}

func (l *connLog) ClientDisconnected() {
	l.log.Info("client disconnected")
}

func (l *connLog) FatalConnectionError(err error) {
	l.log.Errorw("closing connection", "Err", err)
}

package printer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const logDir = "logs"

// OpenLogFile creates ./logs/ccsds_router_log_YYYYMMDD_HH_MM_SS.log and
// tees all printer output into it. The returned file is closed by the
// caller on exit.
func OpenLogFile(now time.Time) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	name := fmt.Sprintf("ccsds_router_log_%s.log", now.Format("20060102_15_04_05"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", name)
	}

	Tee(f)
	return f, nil
}

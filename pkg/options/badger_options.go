package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BadgerOptions)(nil)

// BadgerOptions configures the embedded store that keeps provider sessions across restarts.
type BadgerOptions struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	InMemory bool   `json:"in-memory" mapstructure:"in-memory"`
}

func NewBadgerOptions() *BadgerOptions {
	return &BadgerOptions{
		Dir: "/var/lib/fleetsync/sessions",
	}
}

func (o *BadgerOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if !o.InMemory && o.Dir == "" {
		errs = append(errs, fmt.Errorf("--badger.dir is required unless --badger.in-memory is set"))
	}
	return errs
}

func (o *BadgerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Dir, "badger.dir", o.Dir, "Directory of the session store.")
	fs.BoolVar(&o.InMemory, "badger.in-memory", o.InMemory, "Keep sessions in memory only (lost on restart).")
}

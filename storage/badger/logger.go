package badger

import "github.com/janelia-flyem/wsipatch/wsi"

// logger sends badger's own messages to the wsi log, demoting its chatty
// informational output to debug.
type logger struct{}

func (logger) Errorf(format string, args ...interface{}) {
	wsi.Errorf("badger: "+format, args...)
}

func (logger) Warningf(format string, args ...interface{}) {
	wsi.Warningf("badger: "+format, args...)
}

func (logger) Infof(format string, args ...interface{}) {
	wsi.Debugf("badger: "+format, args...)
}

func (logger) Debugf(format string, args ...interface{}) {
	wsi.Debugf("badger: "+format, args...)
}

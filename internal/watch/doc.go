// Package watch turns filesystem activity in a workspace into debounced
// rebuild actions. A Set holds a shallow watcher over the workspace root
// and a deep watcher per project directory; each project honours its own
// ignore file on top of fixed defaults.
package watch

// Package schedule runs user-defined tasks on a compact cron grammar.
//
// Expressions have exactly five whitespace-separated fields:
//
//	minute(0-59) hour(0-23) day(1-31) month(1-12) weekday(0-6, Monday=0)
//
// Each field is "*", an integer, an inclusive "lo-hi" range, a "base/step"
// progression (base is "*" or an integer) or a comma-separated list of
// these. Values outside a field's bounds are dropped; a field left empty
// makes the expression invalid.
//
// The Scheduler sweeps the task store at a fixed interval and executes due
// tasks one at a time through the hub's REST client. Times are UTC.
package schedule

// Package logx wraps zerolog for pollguard.
//
// Components take a Logger and derive children with With. A Service owns the
// stdout and file sinks; config reloads call Apply and every derived logger
// picks up the new sinks and level. Events carry a short file:line caller.
package logx

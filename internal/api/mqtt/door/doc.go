// Package door bridges the door lock to an MQTT broker.
//
// The bridge is a broadcast observer publishing the retained state on
// <prefix>/state, accepts LOCK and UNLOCK commands on <prefix>/set, reports
// failed commands on <prefix>/error and maintains <prefix>/availability
// through the broker's last will.
package door

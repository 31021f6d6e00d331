// Package resolver satisfies issue reads and writes through an ordered list
// of strategies.
//
// Each strategy either completes the operation, reports that its path is
// unavailable, or reports a provider rejection. Unavailable strategies are
// skipped; the first strategy that does not report unavailability decides
// the outcome. A rejection is never masked by a weaker path.
//
// The server side runs [cache, oauth] and answers an exhausted write with a
// bridge signal. The browser side runs [toolchannel] and answers an exhausted
// write with a manual-update failure. Both return the same Outcome values.
package resolver

// Package serviceresolver discovers device-management policy servers through
// DNS. Managed domains advertise their servers with SRV records under
// _policy._tcp.<domain>; domains without SRV records fall back to a plain
// host lookup of policy.<domain> on the default service port.
package serviceresolver

// Package discovery finds Crestron NAX devices on the local network with
// multicast DNS.
//
// A scan browses "_crestron._tcp" and "_http._tcp" in "local." at the
// same time. An answer counts as a NAX when a TXT model key, the instance
// name or the hostname starts with "NAX-". The same device answering on
// both services is reported once.
//
//	devices, err := discovery.Scan(ctx, 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	for _, d := range devices {
//	    fmt.Println(d)
//	}
//
// Device.Host gives the value for nax.Config.Host. Discovery needs
// multicast on the interface and UDP 5353 open in the firewall.
package discovery

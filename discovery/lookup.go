package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/ruteri/config-service/interfaces"
)

// StaticLookup always returns the given instances.
func StaticLookup(instances ...interfaces.ServiceInstance) interfaces.InstanceLookup {
	return func(ctx context.Context, serviceID string) ([]interfaces.ServiceInstance, error) {
		out := make([]interfaces.ServiceInstance, 0, len(instances))
		for _, instance := range instances {
			if instance.ServiceID == "" || instance.ServiceID == serviceID {
				out = append(out, instance)
			}
		}
		return out, nil
	}
}

// DNSLookup finds instances through SRV records. The TXT records of each SRV
// target carry the instance metadata as key=value strings.
//
// Service "configserver" in domain "example.org" is looked up as
// _configserver._tcp.example.org. A service id ending in "." is used as is.
type DNSLookup struct {
	server string
	domain string
	secure bool
	client *dns.Client
}

// NewDNSLookup creates a lookup querying server (host:port).
func NewDNSLookup(server, domain string, secure bool) *DNSLookup {
	return &DNSLookup{
		server: server,
		domain: domain,
		secure: secure,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

// Lookup implements interfaces.InstanceLookup.
func (d *DNSLookup) Lookup(ctx context.Context, serviceID string) ([]interfaces.ServiceInstance, error) {
	answers, err := d.query(ctx, d.recordName(serviceID), dns.TypeSRV)
	if err != nil {
		return nil, err
	}

	var records []*dns.SRV
	for _, answer := range answers {
		if srv, ok := answer.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	instances := make([]interfaces.ServiceInstance, 0, len(records))
	for _, srv := range records {
		metadata, err := d.metadata(ctx, srv.Target)
		if err != nil {
			return nil, err
		}
		instances = append(instances, interfaces.ServiceInstance{
			ServiceID: serviceID,
			Host:      strings.TrimSuffix(srv.Target, "."),
			Port:      int(srv.Port),
			Secure:    d.secure,
			Metadata:  metadata,
		})
	}
	return instances, nil
}

func (d *DNSLookup) recordName(serviceID string) string {
	if strings.HasSuffix(serviceID, ".") {
		return serviceID
	}
	return dns.Fqdn("_" + serviceID + "._tcp." + d.domain)
}

func (d *DNSLookup) metadata(ctx context.Context, target string) (map[string]string, error) {
	answers, err := d.query(ctx, target, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	metadata := make(map[string]string)
	for _, answer := range answers {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		for _, entry := range txt.Txt {
			if key, value, found := strings.Cut(entry, "="); found {
				metadata[key] = value
			}
		}
	}
	return metadata, nil
}

func (d *DNSLookup) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	in, _, err := d.client.ExchangeContext(ctx, m, d.server)
	if err != nil {
		return nil, fmt.Errorf("dns query %s failed: %w", name, err)
	}
	if in.Rcode == dns.RcodeNameError {
		return nil, nil
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query %s failed: %s", name, dns.RcodeToString[in.Rcode])
	}
	return in.Answer, nil
}

// InstanceHash returns a heartbeat value that changes whenever the set of
// instances returned by lookup changes.
func InstanceHash(lookup interfaces.InstanceLookup, serviceID string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		instances, err := lookup(ctx, serviceID)
		if err != nil {
			return "", err
		}
		lines := make([]string, 0, len(instances))
		for _, instance := range instances {
			keys := make([]string, 0, len(instance.Metadata))
			for k := range instance.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			line := instance.URI()
			for _, k := range keys {
				line += " " + k + "=" + instance.Metadata[k]
			}
			lines = append(lines, line)
		}
		sort.Strings(lines)
		sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
		return hex.EncodeToString(sum[:]), nil
	}
}

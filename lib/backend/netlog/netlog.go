// Package netlog reconstructs what a sandbox downloaded from its packet
// capture. TCP streams are reassembled, HTTP exchanges parsed, and every
// response object becomes a download event carrying the origin address,
// the requested URL when it can be paired up, the MIME type and the
// body bytes.
package netlog

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/gopacket/gopacket/tcpassembly"
	"github.com/gopacket/gopacket/tcpassembly/tcpreader"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/dockpot/dockpot/lib/honeylog"
)

const fallbackMIMEType = "application/octet-stream"

// ExtractDownloads parses a pcap and returns one download per HTTP
// response found in it. Streams that are not HTTP are skipped. The
// capture is attacker controlled; parse failures degrade to fewer
// results, never to an error for the whole capture.
func ExtractDownloads(capture []byte, logger *log.Entry) ([]honeylog.Download, error) {
	reader, err := pcapgo.NewReader(bytes.NewReader(capture))
	if err != nil {
		return nil, trace.BadParameter("malformed capture file: %v", err)
	}

	c := &collector{
		log:      logger,
		requests: make(map[string][]string),
		times:    make(map[string]time.Time),
	}
	pool := tcpassembly.NewStreamPool(&streamFactory{c: c})
	assembler := tcpassembly.NewAssembler(pool)

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.WithError(err).Debug("Stopping at a malformed capture record.")
			break
		}
		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.NoCopy)
		netLayer := packet.NetworkLayer()
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if netLayer == nil || !ok {
			continue
		}
		c.observe(flowKey(netLayer.NetworkFlow(), tcp.TransportFlow()), ci.Timestamp)
		assembler.AssembleWithTimestamp(netLayer.NetworkFlow(), tcp, ci.Timestamp)
	}
	assembler.FlushAll()
	c.wg.Wait()

	return c.pairDownloads(), nil
}

func flowKey(netFlow, tcpFlow gopacket.Flow) string {
	return netFlow.String() + "|" + tcpFlow.String()
}

func reverseFlowKey(netFlow, tcpFlow gopacket.Flow) string {
	return netFlow.Reverse().String() + "|" + tcpFlow.Reverse().String()
}

// response is one parsed HTTP response awaiting request pairing.
type response struct {
	key        string
	requestKey string
	index      int
	source     net.IP
	mimeType   string
	body       []byte
}

type collector struct {
	log *log.Entry
	wg  sync.WaitGroup

	mu        sync.Mutex
	requests  map[string][]string
	responses []response
	times     map[string]time.Time
}

// observe records the first packet time of each flow, used as the
// timestamp of everything recovered from it.
func (c *collector) observe(key string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.times[key]; !ok {
		c.times[key] = t
	}
}

type streamFactory struct {
	c *collector
}

// New implements tcpassembly.StreamFactory.
func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	r := tcpreader.NewReaderStream()
	f.c.wg.Add(1)
	go f.c.run(netFlow, tcpFlow, &r)
	return &r
}

// run consumes one reassembled stream. The first bytes decide whether it
// is the request or the response half of an HTTP exchange.
func (c *collector) run(netFlow, tcpFlow gopacket.Flow, r io.Reader) {
	defer c.wg.Done()
	buf := bufio.NewReader(r)
	defer io.Copy(io.Discard, buf)

	peek, err := buf.Peek(5)
	if err != nil {
		return
	}
	if string(peek) == "HTTP/" {
		c.readResponses(netFlow, tcpFlow, buf)
	} else {
		c.readRequests(netFlow, tcpFlow, buf)
	}
}

func (c *collector) readRequests(netFlow, tcpFlow gopacket.Flow, buf *bufio.Reader) {
	key := flowKey(netFlow, tcpFlow)
	for {
		req, err := http.ReadRequest(buf)
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		req.Body.Close()

		url := req.URL.String()
		if req.URL.Host == "" && req.Host != "" {
			url = "http://" + req.Host + url
		}
		c.mu.Lock()
		c.requests[key] = append(c.requests[key], url)
		c.mu.Unlock()
	}
}

func (c *collector) readResponses(netFlow, tcpFlow gopacket.Flow, buf *bufio.Reader) {
	key := flowKey(netFlow, tcpFlow)
	requestKey := reverseFlowKey(netFlow, tcpFlow)
	source := net.IP(netFlow.Src().Raw())
	for index := 0; ; index++ {
		resp, err := http.ReadResponse(buf, nil)
		if err != nil {
			return
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			c.log.WithError(err).Debug("Discarding an HTTP response with a truncated body.")
			return
		}

		mimeType := fallbackMIMEType
		if parsed, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && parsed != "" {
			mimeType = parsed
		}
		c.mu.Lock()
		c.responses = append(c.responses, response{
			key:        key,
			requestKey: requestKey,
			index:      index,
			source:     source,
			mimeType:   mimeType,
			body:       body,
		})
		c.mu.Unlock()
	}
}

// pairDownloads matches responses with the requests of the opposite
// stream by position and produces the final download list, ordered by
// flow timestamp.
func (c *collector) pairDownloads() []honeylog.Download {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.responses, func(i, j int) bool {
		ti, tj := c.times[c.responses[i].key], c.times[c.responses[j].key]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return c.responses[i].index < c.responses[j].index
	})

	downloads := make([]honeylog.Download, 0, len(c.responses))
	for _, r := range c.responses {
		d := honeylog.Download{
			Timestamp:     c.times[r.key],
			Data:          r.body,
			FileType:      r.mimeType,
			SourceAddress: r.source,
			SaveData:      true,
		}
		if urls := c.requests[r.requestKey]; r.index < len(urls) {
			d.SourceURL = urls[r.index]
		}
		downloads = append(downloads, d)
	}
	return downloads
}

package ringkv

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "ringkv.RingKV"

// ringService is the server side of the RingKV gRPC service.
type ringService interface {
	Store(context.Context, *Request) (*Response, error)
	Get(context.Context, *Request) (*Response, error)
	SetLiveness(context.Context, *Request) (*Response, error)
	Snapshot(context.Context, *Request) (*Response, error)
}

func unaryHandler(method string, call func(ringService, context.Context, *Request) (*Response, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Request)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ringService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ringService), ctx, req.(*Request))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ringService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Store", ringService.Store),
		unaryHandler("Get", ringService.Get),
		unaryHandler("SetLiveness", ringService.SetLiveness),
		unaryHandler("Snapshot", ringService.Snapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringkv.proto",
}

// Server exposes a Federation over gRPC.
type Server struct {
	fed        *Federation
	grpcServer *grpc.Server
	timeout    time.Duration
	log        *log.Entry
}

/* Function: 	NewServer
 *
 * Description:
 * 		Create the gRPC server and register the RingKV service. Every request
 * 		runs under timeout, which bounds forwarding chains inside the ring.
 */
func NewServer(fed *Federation, timeout time.Duration, opts ...grpc.ServerOption) *Server {
	s := &Server{
		fed:     fed,
		timeout: timeout,
		log:     log.WithField("component", "rpc"),
	}
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(wireCodec{}),
		grpc.ChainUnaryInterceptor(s.logRequests),
	}, opts...)
	s.grpcServer = grpc.NewServer(opts...)
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks serving lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infof("Server is listening on %v\n", lis.Addr())
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.log.Infof("Stopping grpc server...\n")
	s.grpcServer.GracefulStop()
}

func (s *Server) logRequests(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := log.Fields{"method": info.FullMethod, "elapsed": time.Since(start)}
	if r, ok := resp.(*Response); ok {
		fields["status"] = r.Status.String()
	}
	s.log.WithFields(fields).Debug("handled request")
	return resp, err
}

func failure(err error) *Response {
	return &Response{Status: StatusOf(err), Message: err.Error()}
}

/* Function: 	Store
 *
 * Description:
 * 		Implementation of Store RPC. Routing outcomes are reported in the
 * 		response status, not as transport errors.
 */
func (s *Server) Store(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pl, err := s.fed.PutKey(ctx, req.Region, req.Entry, req.Key, req.Payloads...)
	if err != nil {
		return failure(err), nil
	}
	return &Response{
		Status:   StatusOK,
		ServedBy: pl.ServedBy,
		Hops:     pl.Hops,
		Region:   pl.Region,
	}, nil
}

/* Function: 	Get
 *
 * Description:
 * 		Implementation of Get RPC.
 */
func (s *Server) Get(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.fed.FetchKey(ctx, req.Region, req.Entry, req.Key)
	if err != nil {
		return failure(err), nil
	}
	return &Response{
		Status:   StatusOK,
		Payloads: rec.Payloads,
		ServedBy: rec.ServedBy,
		Source:   rec.Source,
		Hops:     rec.Hops,
		Region:   rec.Region,
	}, nil
}

/* Function: 	SetLiveness
 *
 * Description:
 * 		Implementation of SetLiveness RPC. Marks req.Label up or down.
 */
func (s *Server) SetLiveness(ctx context.Context, req *Request) (*Response, error) {
	changed, err := s.fed.SetAlive(req.Region, req.Label, req.Alive)
	if err != nil {
		return failure(err), nil
	}
	return &Response{Status: StatusOK, Changed: changed}, nil
}

// Snapshot returns every region's ring.
func (s *Server) Snapshot(ctx context.Context, req *Request) (*Response, error) {
	return &Response{Status: StatusOK, Regions: s.fed.Snapshot()}, nil
}

// Client talks to a Server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a client for addr. No connection is made until the first call.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wireCodec{})),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := new(Response)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		log.Errorf("error invoking %s: %v", method, err)
		return nil, err
	}
	return resp, errorFor(resp.Status, resp.Message)
}

// Store writes payloads under key. Empty region and entry let the server
// choose.
func (c *Client) Store(ctx context.Context, region, entry string, key Key, payloads ...[]byte) (*Response, error) {
	return c.invoke(ctx, "Store", &Request{Op: OpStore, Key: key, Payloads: payloads, Region: region, Entry: entry})
}

// Get reads the payloads under key.
func (c *Client) Get(ctx context.Context, region, entry string, key Key) (*Response, error) {
	return c.invoke(ctx, "Get", &Request{Op: OpGet, Key: key, Region: region, Entry: entry})
}

// SetLiveness marks a peer up or down and reports whether it changed.
func (c *Client) SetLiveness(ctx context.Context, region, label string, alive bool) (bool, error) {
	resp, err := c.invoke(ctx, "SetLiveness", &Request{Op: OpSetLiveness, Region: region, Label: label, Alive: alive})
	if err != nil {
		return false, err
	}
	return resp.Changed, nil
}

// Snapshot returns the server's view of every region.
func (c *Client) Snapshot(ctx context.Context) ([]RegionStatus, error) {
	resp, err := c.invoke(ctx, "Snapshot", &Request{Op: OpSnapshot})
	if err != nil {
		return nil, err
	}
	return resp.Regions, nil
}

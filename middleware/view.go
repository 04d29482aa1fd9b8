package middleware

import (
	"context"
	"slices"

	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/permission"
	"github.com/MrEthical07/goGuard/resolver"
)

// View is what guarded handlers see of the viewer.
type View struct {
	User              *identity.User
	Loading           bool
	Roles             []identity.Role
	HasMerchantRole   bool
	HasAdminRole      bool
	HasSuperAdminRole bool
	// Resources is the matrix heuristic for navigation. It is not an
	// authorization decision.
	Resources []string
}

var viewMatrix = permission.NewMatrix()

func viewOf(st resolver.State) View {
	v := View{
		Loading:           !st.Settled(),
		Roles:             slices.Clone(st.Roles),
		HasMerchantRole:   st.HasMerchantRole(),
		HasAdminRole:      st.HasAdminRole(),
		HasSuperAdminRole: st.HasSuperAdminRole(),
		Resources:         viewMatrix.Resources(st.Role),
	}
	if st.Authenticated() {
		u := st.User
		v.User = &u
	}
	return v
}

type viewContextKey struct{}

func withView(ctx context.Context, v View) context.Context {
	return context.WithValue(ctx, viewContextKey{}, v)
}

func ViewFromContext(ctx context.Context) (View, bool) {
	v, ok := ctx.Value(viewContextKey{}).(View)
	return v, ok
}

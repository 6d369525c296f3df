package regions

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/twpayne/go-geos"
)

// Coastline：某个区域或区域组合的海岸线几何，附带预处理几何与包围盒
type Coastline struct {
	Key      string
	Geom     *geos.Geom
	Prepared *geos.PrepGeom
	Bound    orb.Bound
}

// Covers：快速包围盒判定，盒外的点必然不在区域内
func (c *Coastline) Covers(x, y float64) bool {
	return c.Bound.Contains(orb.Point{x, y})
}

// ContainsXY：精确判定点是否位于海岸线内部，不为每个顶点构造 GEOS 点
func (c *Coastline) ContainsXY(x, y float64) bool {
	return c.Prepared.ContainsXY(x, y)
}

type entry struct {
	coast *Coastline
	err   error
}

// 文档注释：绑定到单个 geos.Context 的区域几何缓存
// 背景：GEOS 几何不能跨 Context 使用，每个 worker 持有自己的 Context 与 Cache；
// 静态区域几何按需从快照的 WKB 解析，多区域联合几何按排序后的代码组合记忆化。
// 约束：同一键只计算一次（LoadOrCompute），缓存生命周期内不再修改；并发共享时同样安全。
type Cache struct {
	set  *Set
	gctx *geos.Context
	memo *xsync.MapOf[string, entry]
}

// NewCache：为 gctx 创建缓存；set 只读共享
func NewCache(set *Set, gctx *geos.Context) *Cache {
	return &Cache{set: set, gctx: gctx, memo: xsync.NewMapOf[string, entry]()}
}

// Set：底层只读快照
func (c *Cache) Set() *Set { return c.set }

// Context：缓存几何所属的 geos.Context
func (c *Cache) Context() *geos.Context { return c.gctx }

// Get：单个区域的海岸线；未加载时返回 MissingRegionError
func (c *Cache) Get(code string) (*Coastline, error) {
	return c.Union([]string{code})
}

// Union：多个区域海岸线的联合，按 Key(codes) 记忆化
// 约束：LoadOrCompute 在计算期间持有桶锁，组合键依赖的单区域几何须在计算前取得，避免重入。
func (c *Cache) Union(codes []string) (*Coastline, error) {
	key := Key(codes)
	uniq := strings.Split(key, ",")
	var parts []*Coastline
	if len(uniq) > 1 {
		parts = make([]*Coastline, 0, len(uniq))
		for _, code := range uniq {
			one, err := c.Union([]string{code})
			if err != nil {
				return nil, err
			}
			parts = append(parts, one)
		}
	}
	e, _ := c.memo.LoadOrCompute(key, func() entry {
		coast, err := c.build(key, uniq, parts)
		return entry{coast: coast, err: err}
	})
	return e.coast, e.err
}

func (c *Cache) build(key string, codes []string, parts []*Coastline) (*Coastline, error) {
	bound, err := c.set.Bound(codes)
	if err != nil {
		return nil, err
	}
	var g *geos.Geom
	if len(parts) == 0 {
		r, _ := c.set.Region(codes[0])
		g, err = c.gctx.NewGeomFromWKB(r.WKB)
		if err != nil {
			return nil, errors.Wrapf(err, "decode region %s", r.Code)
		}
	} else {
		clones := make([]*geos.Geom, 0, len(parts))
		for _, p := range parts {
			clones = append(clones, p.Geom.Clone())
		}
		g = c.gctx.NewCollection(geos.GeometryCollectionTypeID, clones).UnaryUnion()
	}
	return &Coastline{Key: key, Geom: g, Prepared: g.Prepare(), Bound: bound}, nil
}

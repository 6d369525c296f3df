package pipeline

import (
	"context"
	"sync"

	"postcode-polygons/internal/batch"
	"postcode-polygons/internal/config"
	"postcode-polygons/internal/postcode"
	"postcode-polygons/internal/progress"
	"postcode-polygons/internal/regions"
	"postcode-polygons/internal/store"

	"github.com/pkg/errors"
)

// PhaseInland：内陆表生成阶段名
const PhaseInland = "inland-sectors"

// 文档注释：生成内陆 sector 表
// 背景：对每个 sector，按区域分组合并单元格并做完整顶点扫描；无需裁剪的 sector 登记到该区域下。
// 跨区域的 sector 在每个满足条件的区域下分别登记，快速判断要求所有相关区域都登记过才生效。
// 约束：扫描失败的 sector 不登记（只会让后续运行走慢路径，不会产生错误结果）。
func BuildInland(ctx context.Context, opts config.InlandOptions, set *regions.Set, open store.Opener, rep progress.Reporter) (regions.Inland, batch.Summary, error) {
	r := NewRunner(config.Options{Area: opts.Area, Workers: opts.Workers}, set, open, rep)

	src, err := open(ctx)
	if err != nil {
		return nil, batch.Summary{}, errors.Wrap(err, "open cell source")
	}
	all, err := src.ListPrefixes(ctx, postcode.Sector)
	_ = src.Close()
	if err != nil {
		return nil, batch.Summary{}, errors.Wrap(err, "list sectors")
	}
	sectors, err := r.restrict(all, postcode.Sector.Plural)
	if err != nil {
		return nil, batch.Summary{}, err
	}

	var mu sync.Mutex
	raw := map[string][]string{}
	job := batch.Job[*session, string]{
		Phase:    PhaseInland,
		Workers:  opts.Workers,
		Open:     r.newSession,
		Key:      func(s string) string { return s },
		Progress: rep,
		Do: func(ctx context.Context, s *session, sector string) error {
			inland, err := inlandRegions(ctx, s, sector)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, code := range inland {
				raw[code] = append(raw[code], sector)
			}
			return nil
		},
	}
	sum, err := job.Run(ctx, sectors)
	if err != nil {
		return nil, sum, err
	}
	return regions.NewInland(raw), sum, nil
}

// inlandRegions：sector 在哪些区域内无需裁剪
func inlandRegions(ctx context.Context, s *session, sector string) ([]string, error) {
	units, err := s.src.FetchUnits(ctx, postcode.Sector, sector)
	if err != nil {
		return nil, errors.Wrapf(err, "list units of %s", sector)
	}
	if len(units) == 0 {
		return nil, nil
	}
	groups, err := s.src.FetchCells(ctx, units)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch cells of %s", sector)
	}
	var out []string
	for _, g := range groups {
		cells, err := s.engine.ParseWKB(g.Polygons)
		if err != nil {
			return nil, err
		}
		need, err := s.engine.NeedsClipping(cells, []string{g.RegionCode})
		if err != nil {
			return nil, errors.Wrapf(err, "sector %s in %s", sector, g.RegionCode)
		}
		if !need {
			out = append(out, g.RegionCode)
		}
	}
	return out, nil
}

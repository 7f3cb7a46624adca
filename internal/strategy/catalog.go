package strategy

// DefaultCatalog returns the built-in strategy-key catalog of GOTO-style
// values. The sentinel binary uses it as is; no catalog is loaded from
// config.
func DefaultCatalog() map[string]Template {
	narrowExp := []ExposureSetTemplate{{NumExp: 4, ExpTime: 60, Filter: "L"}}
	wideExp := []ExposureSetTemplate{{NumExp: 3, ExpTime: 90, Filter: "L"}}

	standardConstraints := Constraints{MinAlt: 30, MaxSunAlt: -15, MaxMoon: 0.9, MinMoonSep: 10}

	rankedCadence := []Cadence{
		{NumToDo: 3, WaitHours: 1, RankChange: 0, ValidHours: 24},
		{NumToDo: 2, WaitHours: 6, RankChange: 1, ValidHours: 48},
	}

	catalog := map[string]Template{}

	for rank := 1; rank <= 5; rank++ {
		for _, suffix := range []string{"_NARROW", "_WIDE"} {
			exp := narrowExp
			tileLimit := 50
			probLimit := 0.9
			contour := 0.9
			if suffix == "_WIDE" {
				exp = wideExp
				tileLimit = 200
				probLimit = 0.95
				contour = 0.95
			}
			key := rankKey(rank) + suffix
			catalog[key] = Template{
				Rank:          rank,
				Cadence:       append([]Cadence(nil), rankedCadence...),
				Constraints:   standardConstraints,
				ExposureSets:  exp,
				OnGrid:        true,
				TileLimit:     tileLimit,
				ProbLimit:     probLimit,
				SkymapContour: contour,
				TooFlag:       rank <= 2,
				WakeupAlert:   rank == 1,
			}
		}
	}

	legacy := map[string]int{
		"GW_CLOSE_NS": 2, "GW_FAR_NS": 3, "GW_CLOSE_BH": 5, "GW_FAR_BH": 5, "GW_BURST": 4,
	}
	for key, rank := range legacy {
		catalog[key] = Template{
			Rank:          rank,
			Cadence:       []Cadence{{NumToDo: 2, WaitHours: 2, ValidHours: 24}},
			Constraints:   standardConstraints,
			ExposureSets:  narrowExp,
			OnGrid:        true,
			TileLimit:     100,
			ProbLimit:     0.9,
			SkymapContour: 0.9,
			TooFlag:       rank <= 3,
		}
	}

	catalog["GRB_SWIFT"] = Template{
		Rank:         2,
		Cadence:      []Cadence{{NumToDo: 3, WaitHours: 0.5, ValidHours: 6}},
		Constraints:  standardConstraints,
		ExposureSets: []ExposureSetTemplate{{NumExp: 6, ExpTime: 30, Filter: "L"}},
		TooFlag:      true,
	}
	catalog["GRB_FERMI_NARROW"] = Template{
		Rank:         3,
		Cadence:      []Cadence{{NumToDo: 3, WaitHours: 0.5, ValidHours: 6}},
		Constraints:  standardConstraints,
		ExposureSets: []ExposureSetTemplate{{NumExp: 5, ExpTime: 45, Filter: "L"}},
		TileLimit:    30,
		OnGrid:       true,
		TooFlag:      true,
	}
	catalog["GRB_FERMI_WIDE"] = Template{
		Rank:         4,
		Cadence:      []Cadence{{NumToDo: 2, WaitHours: 1, ValidHours: 12}},
		Constraints:  standardConstraints,
		ExposureSets: []ExposureSetTemplate{{NumExp: 3, ExpTime: 60, Filter: "L"}},
		TileLimit:    150,
		OnGrid:       true,
	}
	catalog["GRB_OTHER"] = Template{
		Rank:         4,
		Cadence:      []Cadence{{NumToDo: 2, WaitHours: 1, ValidHours: 12}},
		Constraints:  standardConstraints,
		ExposureSets: wideExp,
		TileLimit:    50,
		OnGrid:       true,
	}

	catalog["NU_ICECUBE_GOLD"] = Template{
		Rank:         2,
		Cadence:      []Cadence{{NumToDo: 3, WaitHours: 1, ValidHours: 24}},
		Constraints:  standardConstraints,
		ExposureSets: narrowExp,
		TileLimit:    20,
		OnGrid:       true,
		TooFlag:      true,
	}
	catalog["NU_ICECUBE_BRONZE"] = Template{
		Rank:         3,
		Cadence:      []Cadence{{NumToDo: 2, WaitHours: 2, ValidHours: 24}},
		Constraints:  standardConstraints,
		ExposureSets: narrowExp,
		TileLimit:    20,
		OnGrid:       true,
	}
	catalog["NU_ICECUBE_CASCADE"] = Template{
		Rank:         4,
		Cadence:      []Cadence{{NumToDo: 2, WaitHours: 2, ValidHours: 24}},
		Constraints:  standardConstraints,
		ExposureSets: wideExp,
		TileLimit:    80,
		OnGrid:       true,
	}

	catalog["DEFAULT"] = Template{
		Rank:         5,
		Cadence:      []Cadence{{NumToDo: 1, ValidHours: 12}},
		Constraints:  standardConstraints,
		ExposureSets: wideExp,
		TileLimit:    10,
	}

	return catalog
}

func rankKey(rank int) string {
	digits := [...]string{"0", "1", "2", "3", "4", "5"}
	return "GW_RANK_" + digits[rank]
}
